/***************************************************************
 *
 * Copyright (C) 2026, Inkhorn Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package events defines the audit event sink consumed by the auth flow.
//
// Persistence and visualization of audit events belong to an external
// collaborator; this package only carries the interface and a
// logrus-backed default implementation.  Callers must never place token
// material, code verifiers, or client secrets in event attributes.
package events

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Event kinds emitted by the authorization flow. Security-relevant kinds
// carry the "security." prefix so downstream sinks can alert on them.
const (
	KindFlowInitiated    = "auth.flow.initiated"
	KindFlowExchanging   = "auth.flow.exchanging"
	KindFlowResolved     = "auth.flow.resolved"
	KindFlowFailed       = "auth.flow.failed"
	KindTokenRefreshed   = "auth.token.refreshed"
	KindTokenRevoked     = "auth.token.revoked"
	KindAccountLinked    = "auth.account.linked"
	KindAccountUnlinked  = "auth.account.unlinked"
	KindSecurityCSRF     = "security.csrf.state_mismatch"
	KindSecurityReplay   = "security.csrf.state_replayed"
	KindSecurityThrottle = "security.rate_limited"
)

// Sink receives one call per state transition in the authorization flow.
type Sink interface {
	Emit(kind string, attrs map[string]any)
}

// LogSink writes audit events to the process log. It is the default sink
// when no external collaborator is wired in.
type LogSink struct{}

func (LogSink) Emit(kind string, attrs map[string]any) {
	fields := log.Fields{
		"event_id": uuid.NewString(),
		"emitted":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range attrs {
		fields[k] = v
	}
	log.WithFields(fields).Infoln("audit:", kind)
}

// NopSink discards all events. Tests only.
type NopSink struct{}

func (NopSink) Emit(string, map[string]any) {}
