package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
)

// Read reads a config from the given file. ${VAR} references are expanded from the environment
// before the JSON is decoded.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file the
// reader originated from. Fields absent from the JSON keep their defaults.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := NewDefault()
	cfg.ConfigFilePath = originalPath

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	if cfg.Heading == "" {
		cfg.Heading = NewDefault().Heading
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}

	if originalPath != "" {
		dir := filepath.Dir(originalPath)
		for _, file := range []*string{&cfg.PathFile, &cfg.Output, &cfg.Plot, &cfg.LogFile} {
			*file = resolvePath(dir, *file)
		}
	}
	return cfg, nil
}

// resolvePath makes a relative, non-empty file relative to dir.
func resolvePath(dir, file string) string {
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
