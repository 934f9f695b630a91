// Package logx is restorebot's structured logging layer.
//
// A thin wrapper (logx.Logger) sits on zerolog so call sites stay short:
//   - console output keeps short timestamps and file:line callers
//   - the optional file sink writes JSON lines
//   - the optional Telegram sink forwards warn+ records to an operator chat,
//     rate limited and never blocking the caller
package logx
