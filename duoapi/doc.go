// Package duoapi is a client for the Duo Universal OIDC endpoints:
// health check, hosted-prompt authorization URL construction, and the
// authorization code exchange. It implements duoflow.DuoClient.
//
// Requests authenticate with an HS512 client-assertion JWT signed by the
// client secret; the 2FA result id_token is verified with the same secret.
package duoapi
