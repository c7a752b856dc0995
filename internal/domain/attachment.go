package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

const DefaultMaxAttachmentSize int64 = 10 << 20

var allowedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".pdf": {},
	".doc": {}, ".docx": {}, ".txt": {}, ".zip": {}, ".rar": {},
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {},
}

func extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func IsImageFile(name string) bool {
	_, ok := imageExtensions[extension(name)]
	return ok
}

// ValidateAttachment checks size and extension. maxSize <= 0 means the default.
func ValidateAttachment(a Attachment, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxAttachmentSize
	}
	if a.FileKey == "" || a.FileName == "" {
		return fmt.Errorf("%w: file key and name are required", ErrInvalidAttachment)
	}
	if a.FileSize <= 0 || a.FileSize > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit of %d bytes", ErrInvalidAttachment, a.FileSize, maxSize)
	}
	ext := extension(a.FileName)
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: extension %q not allowed", ErrInvalidAttachment, ext)
	}
	return nil
}
