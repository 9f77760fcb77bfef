// Package apperrors provides chained application errors that carry an HTTP status
// code. Errors are built from a root with New and specialised with New, Msg, MsgErr
// and Err so that errors.Is matches every ancestor in the chain.
package apperrors

// Error is the application error interface. Every method that derives an error
// returns a new value; the receiver is never modified.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // child error with a new message
	Msg(msg string) Error                  // child error that also wraps the receiver
	MsgErr(msg string, err ...error) Error // child error with a new message and extra causes
	Err(err ...error) Error                // same message, extra causes attached
	SetExpandError(bool) Error             // whether ErrorAll lists the causes
	SetStatusCode(int) Error               // HTTP status code
	StatusCode() int
	ErrorAll() string // message plus causes when expansion is on
	UnwrapAll() []error
}
