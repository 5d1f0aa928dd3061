// Package capture defines the boundary contract between OS audio capture
// collaborators (microphone driver, system loopback) and the pipeline. The
// devices themselves live outside this service; they only push raw PCM
// buffers through these interfaces.
package capture
