package device

import "context"

// RadioDriver is the platform BLE adapter.
//
// Methods are fire-and-confirm: an error return means the request was not issued
// and no event will follow; otherwise exactly one later DriverEvents callback
// reports the outcome. Implementations may invoke callbacks from any goroutine,
// including synchronously from inside the request.
type RadioDriver interface {
	// Bind installs the event sink. Called once before any other method.
	Bind(events DriverEvents)

	StartScan(filter ScanFilter) error
	StopScan() error

	Connect(id Identifier) error
	Disconnect(id Identifier) error
	DiscoverServices(id Identifier) error

	// PerformAction issues one protocol operation; seq is echoed back in OnActionCompleted.
	PerformAction(id Identifier, seq uint64, action Action) error

	// PairedDevices returns identifiers of bonded peripherals advertising any service of filter.
	PairedDevices(ctx context.Context, filter ScanFilter) ([]Identifier, error)
}

// DriverEvents receives asynchronous outcomes from a RadioDriver.
type DriverEvents interface {
	OnDiscovered(id Identifier, rssi int, adv AdvertisementData)
	OnScanFailed(err error)

	OnConnected(id Identifier)
	OnConnectFailed(id Identifier, err error)
	OnDisconnected(id Identifier, err error)

	OnServicesDiscovered(id Identifier, services []*Service, err error)
	OnActionCompleted(id Identifier, seq uint64, result ActionResult, err error)
	OnNotification(id Identifier, service, characteristic string, value []byte)
}
