// Package internal holds helpers shared by authcore packages and never
// exported: identifier generation, reset-token codecs, secret hashing.
package internal
