// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"golang.org/x/time/rate"
)

// Client-side pacing for requests to the answer service.
//
// The service runs retrieval and an LLM call per question, so a burst of
// requests (scripted input, a slash command in a loop) can pile up
// expensive work behind a single terminal. The limiter bounds what one
// chat process can ask for; interactive typing never comes close to it.
const (
	// answerRequestsPerSecond is the sustained request rate allowed
	// against the answer service.
	answerRequestsPerSecond = 2

	// answerRequestBurst is the number of requests that may be sent
	// back-to-back before pacing kicks in.
	answerRequestBurst = 4
)

// newAnswerLimiter returns the limiter shared by all requests a client
// sends to the answer service. Waiting respects context cancellation, so
// Ctrl+C during a paced wait aborts the request rather than the pause.
func newAnswerLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(answerRequestsPerSecond), answerRequestBurst)
}
