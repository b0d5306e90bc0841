// Package tgui provides small Telegram text helpers: safe HTML builders
// for ParseMode="HTML" messages and rune-aware truncation.
//
// Values of type H are already escaped; build message bodies from H
// parts and only convert to string at the send boundary.
package tgui
