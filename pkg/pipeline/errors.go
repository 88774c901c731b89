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

package pipeline

import "errors"

// ErrIntegrityRequired is returned when constructing a pipeline without an
// integrity engine. Every emission carries an HMAC; there is no
// configuration without one.
var ErrIntegrityRequired = errors.New("pipeline: integrity engine is required")
