// Package transform is the Transform Service: it prettifies XML text and
// runs XSLT stylesheets over XML text, reporting diagnostics to a listener.
// Surfaces reach it through a Client, either in-process or over gRPC.
package transform
