// Package httpmw provides the middleware stack of the admin listener.
//
// Order, outermost first: Recover, RequestID, trace response headers,
// WithLogger, AccessLog, then chi with AnnotateHTTPRoute. Query strings and
// headers are kept out of log fields.
package httpmw
