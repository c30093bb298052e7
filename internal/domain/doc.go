// Package domain holds the records shared by the notification pipeline:
// members, prompt content, ledger notifications and sent-prompt history.
//
// Types here are plain values. Persistence lives in internal/storage and the
// decision logic lives in the component packages that consume these types.
package domain
