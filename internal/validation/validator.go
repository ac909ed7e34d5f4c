package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

const (
	// Size limits
	MaxKeySize  = 1024
	MaxBlobSize = 64 * 1024 * 1024 // 64 MB

	// ContentKeyPrefix marks keys derived from the blob's own digest.
	ContentKeyPrefix = "sha256:"
)

// Validator validates blob operations
type Validator struct {
	maxKeySize  int
	maxBlobSize int64
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:  MaxKeySize,
		maxBlobSize: MaxBlobSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxKeySize int, maxBlobSize int64) *Validator {
	return &Validator{
		maxKeySize:  maxKeySize,
		maxBlobSize: maxBlobSize,
	}
}

// ValidatePut validates a write operation
func (v *Validator) ValidatePut(key string, data []byte) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	if int64(len(data)) > v.maxBlobSize {
		return fmt.Errorf("blob exceeds maximum size of %d bytes", v.maxBlobSize)
	}
	if strings.HasPrefix(key, ContentKeyPrefix) {
		return v.validateContentKey(key, data)
	}
	return nil
}

// ValidateKey validates a blob key
func (v *Validator) ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if len(key) > v.maxKeySize {
		return fmt.Errorf("key exceeds maximum size of %d bytes", v.maxKeySize)
	}
	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("key contains forbidden character %q", r)
		}
	}
	return nil
}

// validateContentKey checks that a content-addressed key matches the
// digest of the payload it names.
func (v *Validator) validateContentKey(key string, data []byte) error {
	want := strings.TrimPrefix(key, ContentKeyPrefix)
	if len(want) != sha256.Size*2 {
		return fmt.Errorf("content key digest must be %d hex characters", sha256.Size*2)
	}
	if _, err := hex.DecodeString(want); err != nil {
		return fmt.Errorf("content key digest is not valid hex")
	}

	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(want, got) {
		return fmt.Errorf("content key digest does not match payload: want %s, got %s", want, got)
	}
	return nil
}

// ContentKey derives the content-addressed key for a payload.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return ContentKeyPrefix + hex.EncodeToString(sum[:])
}
