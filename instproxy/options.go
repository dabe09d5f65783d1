package instproxy

// Options is the client options dictionary sent along with a command.
type Options map[string]any

// NewOptions returns an empty options dictionary.
func NewOptions() Options {
	return Options{}
}

// SetApplicationType restricts listings to "User" or "System" apps.
// An empty type removes the restriction.
func (o Options) SetApplicationType(t string) Options {
	if t == "" {
		delete(o, "ApplicationType")
	} else {
		o["ApplicationType"] = t
	}
	return o
}

// SetReturnAttributes limits which attributes listing results carry.
func (o Options) SetReturnAttributes(attrs ...string) Options {
	o["ReturnAttributes"] = attrs
	return o
}

// SetBundleIDs restricts a listing to the given bundle identifiers.
func (o Options) SetBundleIDs(ids ...string) Options {
	o["BundleIDs"] = ids
	return o
}

// SetPackageType declares the kind of package being installed, e.g.
// "Developer" or "CarrierBundle".
func (o Options) SetPackageType(t string) Options {
	o["PackageType"] = t
	return o
}

// SetBundleIdentifier attaches the package's bundle identifier.
func (o Options) SetBundleIdentifier(id string) Options {
	o["CFBundleIdentifier"] = id
	return o
}

// SetApplicationSINF attaches the package's SINF blob.
func (o Options) SetApplicationSINF(sinf []byte) Options {
	o["ApplicationSINF"] = sinf
	return o
}

// SetMetadata attaches the package's iTunesMetadata blob.
func (o Options) SetMetadata(meta []byte) Options {
	o["iTunesMetadata"] = meta
	return o
}

// SetSkipUninstall controls whether archiving leaves the app installed.
func (o Options) SetSkipUninstall(skip bool) Options {
	o["SkipUninstall"] = skip
	return o
}

// SetArchiveType selects what an archive operation captures:
// "ApplicationOnly" or "DocumentsOnly".
func (o Options) SetArchiveType(t string) Options {
	o["ArchiveType"] = t
	return o
}
