// Package session holds the collaborative reading session model: the durable
// reading_session record, its participants, per-participant viewports, and the
// ephemeral presence and view types that never touch the database.
package session
