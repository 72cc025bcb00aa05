// Package runtime manages build containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon and owns image and
// container lifecycle for package builds. Container profile archives are
// imported into the content store, tagged deterministically, and
// unpacked for the target platform; each build then runs inside a fresh
// [Container] with its own snapshot.
//
// A [Container] wraps a long-running containerd task. Build commands are
// exec'd into the task with captured stdout, stderr, and exit code, and
// sources and produced packages move in and out as tar streams. Destroy
// the container when the build finishes to release its snapshot.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "rpmforge")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	if err := rt.ImportProfile(ctx, "el9.tar", "el9"); err != nil {
//	    return err
//	}
//
//	ctr, err := rt.StartContainer(ctx, "el9", "build-samtools", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	result, err := ctr.Exec(ctx, "/bin/sh", "rpmbuild -ba samtools.spec", nil, "")
package runtime
