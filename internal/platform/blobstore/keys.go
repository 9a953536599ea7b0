package blobstore

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Categories group objects under a patient prefix.
const (
	CategoryPathology = "pathology"
	CategoryRadiology = "radiology"
	CategoryProfile   = "profile"
	CategoryDocuments = "documents"
)

var AllowedCategories = map[string]bool{
	CategoryPathology: true,
	CategoryRadiology: true,
	CategoryProfile:   true,
	CategoryDocuments: true,
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName strips directories and replaces characters outside
// [A-Za-z0-9._-] with underscores.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 200 {
		ext := path.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = name[:200-len(ext)] + ext
	}
	return name
}

// KeyBuilder lays objects out as
// [prefix/]patients/{patient_id}/{category}/{record_id}/{filename}.
type KeyBuilder struct {
	Prefix string
}

func (b KeyBuilder) root() string {
	p := strings.Trim(b.Prefix, "/")
	if p == "" {
		return "patients"
	}
	return p + "/patients"
}

// PatientPrefix returns the prefix holding every object of a patient.
func (b KeyBuilder) PatientPrefix(patientID string) string {
	return fmt.Sprintf("%s/%s/", b.root(), patientID)
}

// CategoryPrefix returns the prefix for one category of a patient.
func (b KeyBuilder) CategoryPrefix(patientID, category string) string {
	return fmt.Sprintf("%s/%s/%s/", b.root(), patientID, category)
}

// RecordPrefix returns the prefix for the objects attached to one record.
func (b KeyBuilder) RecordPrefix(patientID, category, recordID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/", b.root(), patientID, category, recordID)
}

// Key builds an object key. The file name is sanitized.
func (b KeyBuilder) Key(patientID, category, recordID, fileName string) (string, error) {
	if patientID == "" || recordID == "" {
		return "", fmt.Errorf("patient id and record id are required")
	}
	if !AllowedCategories[category] {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return b.RecordPrefix(patientID, category, recordID) + SanitizeFileName(fileName), nil
}

// Owns reports whether key lives under the patient's prefix.
func (b KeyBuilder) Owns(patientID, key string) bool {
	return strings.HasPrefix(key, b.PatientPrefix(patientID)) && !strings.Contains(key, "..")
}
