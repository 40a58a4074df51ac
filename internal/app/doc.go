// Package app contains the core application logic. It wires the module
// space, assembler and submission service together and owns the server
// lifecycle, decoupled from any specific entrypoint like a CLI.
package app
