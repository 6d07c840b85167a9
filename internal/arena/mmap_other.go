//go:build !unix

package arena

func mapMemory(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func unmapMemory([]byte) error {
	return nil
}
