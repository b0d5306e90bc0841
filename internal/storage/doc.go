// Package storage provides a minimal persistence layer used by the bot.
//
// It holds three pieces of state:
//   - the subscriber set (chat IDs)
//   - the delivery ledger (what was already sent, for dedup)
//   - the Telegram update offset (so commands survive restarts)
package storage
