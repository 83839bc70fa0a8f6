package scheduler

// fifoLock is a channel-based mutex. The runtime parks goroutines blocked on
// a channel in a FIFO wait queue, so lock handoff is fair in arrival order,
// a property sync.Mutex does not guarantee and queue mutation relies on.
type fifoLock chan struct{}

func newFifoLock() fifoLock { return make(chan struct{}, 1) }

func (l fifoLock) lock() { l <- struct{}{} }

func (l fifoLock) unlock() { <-l }
