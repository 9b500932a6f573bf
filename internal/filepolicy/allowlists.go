package filepolicy

var profileMimeTypes = setOf(
	"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp",
)

var profileExtensions = setOf(
	"jpg", "jpeg", "png", "gif", "webp",
)

var projectMimeTypes = setOf(
	// documents
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain", "text/csv", "application/json", "text/markdown", "application/rtf", "text/rtf",

	// statistics and data science
	"application/x-sas", "application/x-sas-data",
	"application/x-stata", "application/x-stata-dta",
	"application/x-spss", "application/x-spss-sav",
	"text/x-r", "text/x-r-source", "application/x-r-data",
	"text/x-matlab", "application/matlab",
	"text/x-python", "application/x-python-code", "application/x-ipynb+json",
	"text/x-julia", "application/x-hdf", "application/x-netcdf",

	// source code and markup
	"text/x-c", "text/x-c++", "text/x-java", "text/javascript", "application/javascript",
	"text/x-sql", "application/sql",
	"text/x-latex", "application/x-latex", "application/x-tex", "text/x-bibtex",
	"text/html", "text/css", "application/xml", "text/xml", "application/x-yaml", "text/yaml",

	// design tools
	"application/x-photoshop", "image/vnd.adobe.photoshop", "application/x-indesign",
	"application/x-illustrator", "application/postscript", "application/x-adobe-acrobat",
	"application/vnd.adobe.aftereffects.project", "application/vnd.adobe.premiere.project",
	"application/vnd.adobe.xd",

	// images
	"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp", "image/svg+xml",
	"image/tiff", "image/bmp", "image/x-icon", "image/heic", "image/heif", "image/raw",

	// audio and video
	"video/mp4", "video/quicktime", "video/x-msvideo", "video/x-ms-wmv", "video/webm",
	"audio/mpeg", "audio/wav", "audio/x-wav", "audio/mp4", "audio/x-m4a",

	// scientific and medical
	"application/dicom", "chemical/x-pdb", "chemical/x-mol", "application/x-gzip", "application/gzip",

	// CAD and 3D
	"application/x-autocad", "application/dxf", "model/stl", "model/obj",

	// archives
	"application/zip", "application/x-zip-compressed", "application/x-rar-compressed",
	"application/x-7z-compressed", "application/x-tar", "application/x-gtar",

	// geographic and citation formats
	"application/vnd.google-earth.kml+xml", "application/vnd.google-earth.kmz",
	"application/x-endnote-library", "application/x-bibtex",
	"application/x-research-info-systems", "application/marc",

	"application/octet-stream",
)

var projectExtensions = setOf(
	// documents
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "txt", "csv", "json",
	"md", "rtf", "odt", "ods", "odp",

	// statistics and data science
	"sas", "sas7bdat", "sas7bcat", "sd2", "sd7", "sas7bndx", "sas7bpgm",
	"dta", "do", "ado",
	"sav", "spv", "sps", "spss",
	"r", "rda", "rdata", "rds", "rproj", "rmd", "rnw",
	"m", "mat", "mlx", "mex", "fig", "mdl", "slx",
	"py", "ipynb", "pyc", "pyo", "pyw", "pyx", "pyd",
	"jl",
	"h5", "hdf5", "he5",
	"nc", "nc4", "netcdf",

	// source code and markup
	"c", "cpp", "cc", "cxx", "h", "hpp", "hxx",
	"java", "class", "jar",
	"js", "jsx", "ts", "tsx", "mjs",
	"sql", "sqlite", "db",
	"tex", "latex", "bib", "cls", "sty", "bst",
	"html", "htm", "css", "scss", "sass", "less",
	"xml", "xsl", "xslt", "xsd",
	"yaml", "yml",
	"sh", "bash", "zsh", "fish", "ps1", "bat", "cmd",

	// design tools
	"psd", "psb",
	"ai", "ait", "eps",
	"indd", "indt", "indl", "indb", "inx", "idml",
	"aep", "aepx", "aet",
	"prproj", "ppj",
	"xd",
	"fla", "swf",

	// images
	"jpg", "jpeg", "png", "gif", "webp", "svg", "tiff", "tif", "bmp",
	"ico", "heic", "heif", "raw", "cr2", "nef", "arw", "dng", "orf",

	// audio and video
	"mp4", "mov", "avi", "wmv", "flv", "webm", "mkv", "mpg", "mpeg",
	"mp3", "wav", "flac", "aac", "m4a", "ogg", "wma", "aiff", "ape",

	// scientific and medical
	"dcm", "dicom",
	"pdb", "mol", "mol2", "sdf",
	"fasta", "fastq", "sam", "bam", "vcf",
	"fits", "fit",

	// CAD and 3D
	"dwg", "dxf", "dwf",
	"stl", "obj", "fbx", "dae", "3ds", "ply",
	"step", "stp", "iges", "igs",

	// GIS
	"kml", "kmz", "gpx", "shp", "shx", "dbf", "prj", "geojson",

	// archives
	"zip", "rar", "7z", "tar", "gz", "bz2", "xz", "tgz",

	// citations, diagrams and notes
	"ris", "enw", "nbib",
	"mm", "mmap", "xmind",
	"vsd", "vsdx", "vdx",
	"one", "onepkg", "onetoc2",

	// columnar data
	"parquet", "feather", "arrow", "avro", "orc",
)

// Uploads outside a known scope get the profile image lists with the default size cap.
func allowedMimeTypes(scope Scope) map[string]struct{} {
	if scope == ScopeProject {
		return projectMimeTypes
	}
	return profileMimeTypes
}

func allowedExtensions(scope Scope) map[string]struct{} {
	if scope == ScopeProject {
		return projectExtensions
	}
	return profileExtensions
}

func setOf(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
