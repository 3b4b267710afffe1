package errors

import "strings"

// Convenience functions for the failure taxonomy

// Graph construction errors

func UnresolvedDependency(requiredBy, reference string, cause error) *PkgBuildError {
	return Wrap(cause, CategoryGraph, SeverityFatal, "unresolved dependency").
		WithKind(KindUnresolvedDependency).
		WithContext("package", requiredBy).
		WithContext("reference", reference)
}

func CyclicDependency(cycle []string) *PkgBuildError {
	return New(CategoryGraph, SeverityFatal, "cyclic dependency").
		WithKind(KindCyclicDependency).
		WithContext("cycle", strings.Join(cycle, " -> "))
}

func ManifestInvalid(path string, cause error) *PkgBuildError {
	return Wrap(cause, CategoryManifest, SeverityFatal, "invalid package manifest").
		WithKind(KindManifestInvalid).
		WithContext("path", path)
}

// Build errors

func SandboxCreationFailed(pkg, path string, cause error) *PkgBuildError {
	return Wrap(cause, CategorySandbox, SeverityFatal, "sandbox creation failed").
		WithKind(KindSandboxCreationFailed).
		WithContext("package", pkg).
		WithContext("path", path)
}

func BuildFailed(pkg string, exitCode int, cause error) *PkgBuildError {
	return Wrap(cause, CategoryBuild, SeverityFatal, "build failed").
		WithKind(KindBuildFailed).
		WithContext("package", pkg).
		WithContext("exit_code", exitCode)
}

func SkippedDueToFailedDependency(pkg, dependency string) *PkgBuildError {
	return New(CategoryBuild, SeverityError, "skipped due to failed dependency").
		WithKind(KindSkippedDueToFailedDependency).
		WithContext("package", pkg).
		WithContext("dependency", dependency)
}

func ProcessSpawnFailed(pkg string, argv []string, cause error) *PkgBuildError {
	return Wrap(cause, CategoryProcess, SeverityFatal, "process spawn failed").
		WithKind(KindProcessSpawnFailed).
		WithContext("package", pkg).
		WithContext("command", strings.Join(argv, " "))
}

// Dispatch errors

func PackageNotBuilt(pkg string) *PkgBuildError {
	return New(CategoryDispatch, SeverityFatal, "package not built").
		WithKind(KindPackageNotBuilt).
		WithContext("package", pkg)
}

func BinaryNotFound(pkg, binary, path string) *PkgBuildError {
	return New(CategoryDispatch, SeverityFatal, "binary not found").
		WithKind(KindBinaryNotFound).
		WithContext("package", pkg).
		WithContext("binary", binary).
		WithContext("path", path)
}

func PackageNotFound(name string) *PkgBuildError {
	return New(CategoryDispatch, SeverityFatal, "package not found in dependency graph").
		WithKind(KindPackageNotFound).
		WithContext("package", name)
}

func AmbiguousPackage(name string, candidates []string) *PkgBuildError {
	return New(CategoryDispatch, SeverityFatal, "package name matches several packages").
		WithKind(KindAmbiguousPackage).
		WithContext("package", name).
		WithContext("candidates", strings.Join(candidates, ","))
}

// Filesystem and internal errors

func FileSystemError(operation, path string, cause error) *PkgBuildError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "filesystem operation failed").
		WithContext("operation", operation).
		WithContext("path", path)
}

func ConfigInvalid(path string, cause error) *PkgBuildError {
	return Wrap(cause, CategoryConfig, SeverityFatal, "invalid configuration").
		WithContext("path", path)
}

func InternalError(message string, cause error) *PkgBuildError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
