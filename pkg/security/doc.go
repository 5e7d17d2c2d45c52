// Package security provides at-rest encryption for collective memory
// values: AES-256-GCM sealing with a per-hive key file.
package security
