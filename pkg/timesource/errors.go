// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package timesource

import "errors"

var (
	// ErrNoServers is returned when the source is configured without any
	// time servers.
	ErrNoServers = errors.New("timesource: no time servers configured")

	// ErrAllServersFailed is returned when every configured server was
	// queried and none produced a usable sample.
	ErrAllServersFailed = errors.New("timesource: all time servers failed")
)
