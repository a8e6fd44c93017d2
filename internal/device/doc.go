// Package device defines the transport contract the GATT operation queue runs
// against, together with the error taxonomy shared by every layer above it.
//
// The contract is deliberately asynchronous:
//   - A Transport opens links; every request on a Link returns immediately
//   - Results arrive later as Events on one multiplexed handler
//   - Each Event carries a Status code and a Kind tag that callers correlate
//     with the request they are waiting on
//
// Concrete transports live in sub-packages (see device/go-ble).
package device
