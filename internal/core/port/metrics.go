package port

// TrustMetrics records outcomes of the trust pipeline.
type TrustMetrics interface {
	ObserveVerdict(action, flagType string)
	ObserveNonce(outcome string)
	ObserveSession(event string)
}
