// Package httpclient is the plain HTTP fetch.Client, built on colly.
package httpclient
