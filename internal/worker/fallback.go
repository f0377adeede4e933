// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package worker

import (
	"fmt"
	"strings"

	"github.com/relaydesk/relaydesk/internal/models"
)

const fallbackGreeting = "Hi! Thanks for reaching out. An agent will get back to you shortly."

// maximum inbound excerpt echoed in a fallback reply
const fallbackEchoLimit = 200

// FallbackReply produces the deterministic reply used when the generative
// step is unavailable. It never fails and never returns an empty string:
// non-empty content is acknowledged with an echo, empty content gets a
// static greeting.
func FallbackReply(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return fallbackGreeting
	}
	content = models.Truncate(content, fallbackEchoLimit)
	return fmt.Sprintf("Thanks for your message: %q. An agent will get back to you shortly.", content)
}
