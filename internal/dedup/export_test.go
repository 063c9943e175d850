package dedup

// SetSignatureFunc replaces how e computes MinHash signatures.
func SetSignatureFunc(e *Engine, fn func(string) Signature) {
	e.signature = fn
}
