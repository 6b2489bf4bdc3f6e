// Package authcore is an embeddable identity and access core: signing key
// lifecycle with JWKS export, a three-kind token service with O(1)
// principal-level revocation, theft-resistant refresh token rotation,
// credential management over argon2id, role and policy based authorization
// with a version-stamped decision cache, and a hash-chained audit log.
//
// Assemble an Engine with the Builder:
//
//	engine, err := authcore.New().
//		WithRedis(rdb).
//		WithPrincipalStore(store).
//		WithMembershipStore(store).
//		Build(ctx)
//
// Durable storage is pluggable; the pgstore package provides a PostgreSQL
// implementation of every store interface.
package authcore
