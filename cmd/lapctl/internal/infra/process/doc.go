// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package process provides inter-process synchronization for the CLI.

# Overview

A deploy run mutates shared state: the env file, the compose project,
the report store. Two runs interleaving would corrupt all three, so
mutating commands take a file-based lock before doing anything.

	lock := process.NewDeployLock(process.DefaultDeployLockConfig())
	if err := lock.Acquire(); err != nil {
	    fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	    os.Exit(1)
	}
	defer lock.Release()

# Thread Safety

DeployLock is NOT safe for concurrent use from multiple goroutines. The
lock provides inter-process synchronization, not intra-process; use it
from main.

# Limitations

  - Advisory lock only; other processes can ignore it if they don't check
  - flock(2) is unreliable on NFS and some network filesystems
  - The OS releases the flock if the process crashes without Release
*/
package process
