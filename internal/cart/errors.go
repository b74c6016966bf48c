package cart

import "errors"

var (
	ErrEmptyName       = errors.New("name is required")
	ErrInvalidPrice    = errors.New("price must be a non-negative number")
	ErrItemNotFound    = errors.New("item not found")
	ErrFolderExists    = errors.New("folder already exists")
	ErrReservedFolder  = errors.New("the Uncategorized folder cannot be renamed or deleted")
	ErrUnknownFolder   = errors.New("folder does not exist")
	ErrInvalidCurrency = errors.New("unsupported currency")
	ErrCartEmpty       = errors.New("cart is empty")
	ErrNotExtracted    = errors.New("could not extract product info from this page")
)

// ValidationError reports rejected input. The model is unchanged when one
// is returned.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(op string, err error) error {
	return &ValidationError{Op: op, Err: err}
}

// IsValidation reports whether err is a rejected-input error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
