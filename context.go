package duoflow

import "context"

type clientIPContextKey struct{}
type xmlrpcContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on
// audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithXMLRPCRequest flags ctx as belonging to an XML-RPC request. Combined
// with DuoConfig.XMLRPCBypass it lets remote-publishing requests skip the
// second factor.
func WithXMLRPCRequest(ctx context.Context, xmlrpc bool) context.Context {
	return context.WithValue(ctx, xmlrpcContextKey{}, xmlrpc)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func xmlrpcRequestFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	xmlrpc, _ := ctx.Value(xmlrpcContextKey{}).(bool)
	return xmlrpc
}
