// Package sftpmirror mirrors a remote directory tree into a local
// directory over SFTP (or FTP).
//
// A run connects once, walks the remote tree below the remote root,
// creates the matching local directories and then downloads, directory by
// directory, every remote file that does not exist locally yet. Files are
// never overwritten, deleted or compared by content.
//
// This package provides:
//   - A Session that owns the single connection of a run and reconnects on demand
//   - SFTP (private key, password, certificate, bastion host) and FTP transports
//   - Bounded retries: a directory is attempted at most four times
//   - Structured logrus events and Prometheus counters for every run
//
// # Basic Usage
//
//	target := sftpmirror.Target{
//		Host:       "backup.example.com",
//		User:       "mirror",
//		KeyPath:    "~/.ssh/id_ed25519",
//		RemoteRoot: "/srv/data/",
//		LocalRoot:  "/var/backups/data",
//	}
//
//	report, err := sftpmirror.Run(ctx, target)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(report.Totals().FilesFetched)
//
// # Failure Handling
//
// Connection errors (dropped links, resets, timeouts) mark the session
// unhealthy; the next attempt on the same directory reconnects first and
// resumes. Files the server refuses to send are skipped. A directory that
// fails four times in a row is reported as exhausted, the file it was
// fetching is removed and the run moves on. Anything else ends the run,
// including a remote root that cannot be listed.
package sftpmirror
