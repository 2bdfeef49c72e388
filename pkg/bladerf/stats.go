package bladerf

// Stats is a snapshot of session counters. It is safe to take from any goroutine.
type Stats struct {
	RxStreaming bool   `json:"rx_streaming"`
	TxStreaming bool   `json:"tx_streaming"`
	RxTransfers uint64 `json:"rx_transfers"`
	TxTransfers uint64 `json:"tx_transfers"`
	RxSamples   uint64 `json:"rx_samples"`
	TxSamples   uint64 `json:"tx_samples"`
	Overflows   uint64 `json:"overflows"`
	Underflows  uint64 `json:"underflows"`
	Late        uint64 `json:"late"`
}

func (s *Session) Stats() Stats {
	return Stats{
		RxStreaming: s.rx.enabled.Load(),
		TxStreaming: s.tx.enabled.Load(),
		RxTransfers: s.rx.transfers.Load(),
		TxTransfers: s.tx.transfers.Load(),
		RxSamples:   s.rx.samples.Load(),
		TxSamples:   s.tx.samples.Load(),
		Overflows:   s.faults.count(FaultOverflow),
		Underflows:  s.faults.count(FaultUnderflow),
		Late:        s.faults.count(FaultLate),
	}
}
