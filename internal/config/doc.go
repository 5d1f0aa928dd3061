// Package config provides configuration loading and validation for the
// transcription service. It handles YAML-based configuration with per-section
// validation and duration accessors for the pipeline, mixer, transcription,
// and publishing subsystems.
package config
