// Package device models a BLE peripheral as seen by a central: its advertisement,
// its GATT profile and the connection state machine that serialises protocol
// operations against it.
//
// Each Device owns one actor goroutine. Callers and the radio driver never touch
// connection state directly; they post requests and events into the device mailbox
// and observe results through:
//   - State, CurrentAction, Profile and MTU (published snapshots)
//   - Pending handles returned by Enqueue (one completion per action)
//   - Updates (peripheral notifications)
//
// The radio itself is abstracted behind RadioDriver and PermissionGate so the
// state machines can run against a real adapter (see the go-ble subpackage) or a fake.
package device
