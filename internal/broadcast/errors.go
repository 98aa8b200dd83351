package broadcast

import "errors"

// ErrStopped — рассыльщик остановлен.
var ErrStopped = errors.New("broadcaster stopped")
