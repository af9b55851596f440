// Package domain contains core concepts of the messaging core.
// This file defines Participant references.
// Display metadata is cached, never authoritative.
package domain

type ParticipantRef struct {
	ID          string
	DisplayName string
}

// Name falls back to the identity when no display name is known.
func (p ParticipantRef) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}
