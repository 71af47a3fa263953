package adapter

import (
	"errors"
	"fmt"
)

// ExtractionError means an expected markup element or attribute was missing
// or did not have the expected shape. Deterministic for a given page, so
// never retried. Body carries the markup that failed extraction so it can
// be archived without fetching the vendor page again.
type ExtractionError struct {
	Site   string
	Detail string
	Body   string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for site %s: %s", e.Site, e.Detail)
}

// withPageBody attaches the fetched markup to an extraction error. Other
// errors pass through unchanged.
func withPageBody(err error, body string) error {
	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		extractionErr.Body = body
	}
	return err
}

// ConfigurationError means a site declares a vendor type no adapter handles,
// or is missing a field its vendor requires.
type ConfigurationError struct {
	Site   string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bad configuration for site %s: %s", e.Site, e.Detail)
}
