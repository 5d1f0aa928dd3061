// Package audio implements the sample-domain half of the pipeline: conversion
// of arbitrary-rate multi-channel PCM into 16 kHz mono float samples,
// overlapping window extraction with silence-aware early cuts, dual-source
// mixing, and WAV encoding of emitted windows for transcription upload.
package audio
