// Copyright 2024-2026 Aiku AI

// Package discord speaks the Discord v9 API as served by both Discord and
// Spacebar: a REST client for sending, editing and deleting messages, and a
// gateway client that turns websocket dispatches into a pollable event queue.
package discord
