// Package tgui holds small helpers for chat messages in HTML parse mode:
// escaping and tag helpers, a line-oriented text builder, inline
// keyboards and "|"-separated callback data that fits the platform's
// 64-byte limit.
package tgui
