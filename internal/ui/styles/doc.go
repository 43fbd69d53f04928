// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles holds the terminal palette shared by the dashboard and the
line-mode progress printer.

All colors are Lip Gloss AdaptiveColor values so light and dark terminals
both stay readable. Every state also has an ASCII indicator, so the output
still reads correctly when color is disabled:

	[ ]   pending
	[*]   in progress
	[OK]  completed
	[X]   failed
*/
package styles
