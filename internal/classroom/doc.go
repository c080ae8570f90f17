// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

/*
Package classroom talks to the external learning-platform API.

It contains three layers, leaf-first:

  - The error classifier (errors.go): maps raw remote failures to typed
    codes with fixed, table-driven retry policies. Message substrings are
    checked before status codes because the platform reuses 400/403 for
    structurally different failures.
  - The rate-limited gateway (gateway.go): a single serialized request
    queue shared by every outbound call in the process. It throttles to
    the configured requests-per-second ceiling, retries transient
    failures per the classifier table, and sits behind a circuit breaker.
  - The provider (provider.go, client.go): the RosterProvider interface
    and its HTTP implementation covering roster listing, coursework,
    submissions, push-notification registration, and the OAuth token
    endpoints. Every call routes through the gateway.

The platform enforces both a small per-second burst limit and a larger
per-minute quota. Parallel fan-out from independent course syncs trips
the burst limit and cascades into retries that worsen the load, which is
why one shared gate serializes the whole process.
*/
package classroom
