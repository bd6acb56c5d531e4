// Package main hosts the movie-ingest service entrypoint.
//
// Architecture overview:
//   - Work items: every known URL is a row carrying two status axes, fetch (UNFETCHED, FETCHED, FAILED)
//     and process (UNPROCESSED, PROCESSED, FAILED). Rows are claimed with a lease token, so several
//     replicas can share one Postgres database without double work.
//   - Fetch loop: dispatcher workers claim UNFETCHED rows, fetch them through the per-host rate limiter
//     with Colly (PLAIN_REQUEST) or Chromedp (BROWSER), store the HTML and mark the row FETCHED.
//   - Process loop: workers claim FETCHED but UNPROCESSED rows and run the goquery extractor. Listing
//     pages enqueue newly discovered links, filtered through the Redis or in-memory seen cache. Detail
//     pages upsert a movie by title and publish movie.upserted to Pub/Sub when a topic is configured.
//   - Failures: each failed attempt is counted and retried with exponential backoff until the configured
//     limit, then the row is dead-lettered as FAILED. Operators inspect and requeue those rows through
//     the admin API.
//   - Admin API: chi router with /healthz, /readyz, /metrics and /v1 routes for urls, movies and users.
//
// Quick checklist:
//   - Configure env vars with the MOVIEINGEST_ prefix: MOVIEINGEST_DB_HOST, MOVIEINGEST_DB_USER,
//     MOVIEINGEST_DB_PASSWORD, MOVIEINGEST_DB_NAME, or MOVIEINGEST_STORAGE_DRIVER=memory for a local run.
//   - Run locally: go run ./cmd/movieingest -config config.yaml
//   - SIGTERM stops claiming, drains in-flight cycles and releases unfinished claims.
package main
