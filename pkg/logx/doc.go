// Package logx configures promptnotify's structured logging.
//
// Components receive a logx.Logger (a thin value wrapper over zerolog) and
// attach fields with the helper constructors:
//   - Console output is human readable (short timestamp + short caller)
//   - JSON output is selected for log shippers
//   - An optional append-only file sink always writes JSON lines
package logx
