package model

type SessionStatus string

const (
	SessionStatusPending        SessionStatus = "pending"
	SessionStatusPendingAssets  SessionStatus = "pending_assets"
	SessionStatusAssetsReceived SessionStatus = "assets_received"
	SessionStatusInProgress     SessionStatus = "in_progress"
	SessionStatusCompleted      SessionStatus = "completed"
	// SessionStatusActive is a legacy spelling of in_progress still written by
	// older clients; ingestion accepts both.
	SessionStatusActive SessionStatus = "active"
)

func (s SessionStatus) IsLive() bool {
	return s == SessionStatusInProgress || s == SessionStatusActive
}

type DeviceMode string

const (
	DeviceModeSingle DeviceMode = "single"
	DeviceModeCross  DeviceMode = "cross"
)

func (m DeviceMode) Valid() bool {
	return m == DeviceModeSingle || m == DeviceModeCross
}

type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeMobile  DeviceType = "mobile"
)

func (t DeviceType) Valid() bool {
	return t == DeviceTypeDesktop || t == DeviceTypeMobile
}

type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusWaiting      ConnectionStatus = "waiting"
	ConnectionStatusSingleDevice ConnectionStatus = "single-device"
)

type PaymentProvider string

const (
	PaymentProviderStripe   PaymentProvider = "stripe"
	PaymentProviderRazorpay PaymentProvider = "razorpay"
)

func (p PaymentProvider) Valid() bool {
	return p == PaymentProviderStripe || p == PaymentProviderRazorpay
}

type DocumentType string

const (
	DocumentTypeResume         DocumentType = "resume"
	DocumentTypeJobDescription DocumentType = "job_description"
)

type TranscriptSource string

const (
	TranscriptSourceWeb       TranscriptSource = "web"
	TranscriptSourceExtension TranscriptSource = "extension"
	TranscriptSourceNative    TranscriptSource = "native"
	TranscriptSourceStream    TranscriptSource = "stream"
)

func (s TranscriptSource) Valid() bool {
	switch s {
	case TranscriptSourceWeb, TranscriptSourceExtension, TranscriptSourceNative, TranscriptSourceStream:
		return true
	}
	return false
}
