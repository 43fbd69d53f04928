// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by planrun packages.
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis, used for diagram labels
//   - TruncateWidth, PadWidth: display-width aware truncation for terminal rows
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync, used for reports,
//     plan files and configuration
package util
