// Package logx is schedbot's structured logging layer.
//
// A small value-type Logger wraps zerolog so components can carry fixed
// fields (comp, rid, chat_id) around cheaply. The Service behind it owns the
// sinks and can be re-configured at runtime:
//   - console (human readable, short caller)
//   - JSON lines file
//   - operator chat (min level + rate limit), fed through the bot transport
package logx
