package storage

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	schemaVersionKey     = "meta:schema_version"
	currentSchemaVersion = 1
)

var errUnsupportedSchema = errors.New("unsupported schema version")

type initStorageFunc func(s *BoltStore) error

var initStorageFuncs = []initStorageFunc{
	initSchemaVersion,
}

func (s *BoltStore) initStorage() error {
	for _, f := range initStorageFuncs {
		if err := f(s); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
	}
	return nil
}

func initSchemaVersion(s *BoltStore) error {
	return s.put([]byte(schemaVersionKey), []byte(strconv.Itoa(currentSchemaVersion)))
}

// checkSchema refuses a file written with a different layout.
func (s *BoltStore) checkSchema() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version != currentSchemaVersion {
		return fmt.Errorf("%w: file has %d, want %d", errUnsupportedSchema, version, currentSchemaVersion)
	}
	return nil
}

// schemaVersion reports the layout version written when the file was created.
func (s *BoltStore) schemaVersion() (int, error) {
	value, err := s.get([]byte(schemaVersionKey))
	if err != nil {
		return 0, unavailable(err)
	}
	if len(value) == 0 {
		return 0, nil
	}

	version, err := strconv.Atoi(string(value))
	if err != nil {
		return 0, fmt.Errorf("failed to parse schema version %q: %w", value, err)
	}
	return version, nil
}
