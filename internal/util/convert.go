// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strconv"

// IntToString converts an integer to its decimal string form.
func IntToString(i int) string {
	return strconv.Itoa(i)
}
